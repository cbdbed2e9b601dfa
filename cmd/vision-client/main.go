package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/disintegration/imaging"

	"vision-worker/internal/chartdata"
	"vision-worker/internal/client"
	"vision-worker/internal/logger"
	"vision-worker/internal/protocol"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "vision-client: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("vision-client", flag.ContinueOnError)
	workerPath := fs.String("worker", "vision-worker", "path to the vision-worker binary")
	in := fs.String("in", "", "input image (png, jpeg, gif, bmp, tiff)")
	out := fs.String("out", "", "output image; format from extension")
	filter := fs.String("filter", "GRAY", "GRAY, CANNY, BLUR, SHARPEN, THRESHOLD; anything else passes through")
	generate := fs.Int("generate", 0, "request N synthetic chart records instead of filtering")
	timeout := fs.Duration("timeout", time.Minute, "overall deadline")
	logLevel := fs.String("log-level", "info", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	log := logger.New(logger.ParseLevel(*logLevel), false)

	if *generate == 0 && (*in == "" || *out == "") {
		return errors.New("-in and -out are required unless -generate is set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, *workerPath, "-log-level", *logLevel)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	c := client.New(stdout, stdin, protocol.DefaultMaxLineBytes, log)
	runErr := drive(c, log, *in, *out, *filter, *generate)

	stdin.Close()
	waitErr := cmd.Wait()
	if runErr != nil {
		return runErr
	}
	return waitErr
}

func drive(c *client.Client, log logger.Logger, in, out, filter string, generate int) error {
	if generate > 0 {
		total := 0
		return c.Generate(generate, func(records []chartdata.Record, progress float64) {
			total += len(records)
			log.Info("Client", "chunk received", map[string]interface{}{
				"records":  total,
				"progress": progress,
			})
		})
	}

	img, err := imaging.Open(in, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("open %s: %w", in, err)
	}

	started := time.Now()
	result, err := c.Process(img, filter)
	if err != nil {
		return err
	}

	if err := imaging.Save(result, out); err != nil {
		return fmt.Errorf("save %s: %w", out, err)
	}

	log.Info("Client", "image processed", map[string]interface{}{
		"filter":   filter,
		"width":    result.Bounds().Dx(),
		"height":   result.Bounds().Dy(),
		"output":   out,
		"duration": time.Since(started).String(),
	})
	return nil
}
