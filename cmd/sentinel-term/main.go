// sentinel-term runs the detection pipeline with terminal output
// instead of the MQTT plane: detections and throughput print to stdout,
// SIGUSR1 saves the current frame, Ctrl+C prints a run summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sentinelshield/sentinel/internal/config"
	"github.com/sentinelshield/sentinel/internal/core"
)

func main() {
	rtspURL := flag.String("rtsp", "", "RTSP stream URL (empty = mock source)")
	resolution := flag.String("resolution", "720p", "Stream resolution: 512p, 720p, 1080p")
	fps := flag.Float64("fps", 10, "Target frames per second")
	workerCmd := flag.String("worker", "", "Inference worker command (empty = no detection)")
	modelPath := flag.String("model", "", "Model weights path for the worker")
	confidence := flag.Float64("confidence", config.DefaultConfidence, "Detection confidence threshold")
	cooldownS := flag.Int("cooldown", config.DefaultCooldownS, "Seconds between accepted alerts")
	folder := flag.String("folder", config.DefaultAlertFolder, "Screenshot output folder")
	soundCmd := flag.String("sound-cmd", "", "Command to play the alert sound (e.g. aplay)")
	soundFile := flag.String("sound-file", "", "Alert sound file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelWarn
	if *debug {
		logLevel = slog.LevelDebug
	}
	// Logs go to stderr so stdout stays clean for detection output
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg := &config.Config{
		InstanceID: "sentinel-term",
		Camera:     config.CameraConfig{RTSPURL: *rtspURL, Location: "terminal"},
		Stream:     config.StreamConfig{Resolution: *resolution, FPS: *fps},
		Detector: config.DetectorConfig{
			ModelPath:  *modelPath,
			Confidence: *confidence,
			WorkerCmd:  *workerCmd,
		},
		Alerts: config.AlertsConfig{
			Folder:    *folder,
			Format:    "jpeg",
			CooldownS: *cooldownS,
			SoundCmd:  *soundCmd,
			SoundFile: *soundFile,
		},
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	source := *rtspURL
	if source == "" {
		source = "mock"
	}
	printBanner(source, cfg.Detector.Confidence)

	sentinel, err := core.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	saveChan := make(chan os.Signal, 1)
	signal.Notify(saveChan, syscall.SIGUSR1)
	go func() {
		for range saveChan {
			path, err := sentinel.SaveSnapshot()
			if err != nil {
				fmt.Printf("\nframe save failed: %v\n", err)
				continue
			}
			fmt.Printf("\nframe saved: %s\n", path)
		}
	}()

	errChan := make(chan error, 1)
	go func() {
		errChan <- sentinel.Run(ctx)
	}()

	// Consume presentation updates until the feed closes
	displayDone := make(chan struct{})
	go func() {
		defer close(displayDone)
		display(sentinel)
	}()

	started := time.Now()
	select {
	case <-sigChan:
		fmt.Println("\n\nStopping detection...")
		cancel()
	case runErr := <-errChan:
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "\nERROR: %v\n", runErr)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), sentinel.ShutdownTimeout())
	defer shutdownCancel()
	if err := sentinel.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown failed: %v\n", err)
	}
	<-displayDone

	printSummary(sentinel, time.Since(started))
}

// display prints detections, accepted alerts and periodic throughput.
func display(sentinel *core.Sentinel) {
	read := sentinel.Feed().Subscribe("terminal")
	defer sentinel.Feed().Unsubscribe("terminal")

	for {
		update := read()
		if update == nil {
			return
		}

		if update.HasDetection {
			ts := update.Frame.Timestamp.Format("2006-01-02 15:04:05")
			fmt.Printf("\n[%s] WEAPON DETECTED\n", ts)
			for i, label := range update.Labels {
				score := 0.0
				if i < len(update.Scores) {
					score = update.Scores[i]
				}
				fmt.Printf("  - %s: %.1f%%\n", strings.ToUpper(label), score*100)
			}
			if update.Alert != nil && update.Alert.ScreenshotPath != "" {
				fmt.Printf("  screenshot saved: %s\n", update.Alert.ScreenshotPath)
			}
		}

		if t := update.Throughput; t != nil {
			fmt.Printf("\r[FPS: %.1f] Frames: %d | Detections: %d", t.FPS, t.Frames, t.Detected)
		}
	}
}

func printBanner(source string, confidence float64) {
	line := strings.Repeat("=", 60)
	fmt.Println("\n" + line)
	fmt.Println("SentinelShield - Weapon Detection (Terminal Mode)")
	fmt.Println(line)
	fmt.Printf("Source: %s\n", source)
	fmt.Printf("Confidence Threshold: %.2f\n", confidence)
	fmt.Println(line)
	fmt.Println("\nControls:")
	fmt.Println("  - Ctrl+C to quit")
	fmt.Println("  - SIGUSR1 to save the current frame")
	fmt.Println()
}

func printSummary(sentinel *core.Sentinel, runtime time.Duration) {
	stats := sentinel.Pipeline().Stats()
	line := strings.Repeat("=", 60)

	fmt.Println("\n" + line)
	fmt.Println("Detection Summary")
	fmt.Println(line)
	fmt.Printf("Total Frames: %d\n", stats.FramesProcessed)
	fmt.Printf("Total Detections: %d\n", stats.FramesDetected)
	fmt.Printf("Total Alerts: %d\n", sentinel.Alerts().Count())
	fmt.Printf("Runtime: %.1f seconds\n", runtime.Seconds())
	if secs := runtime.Seconds(); secs > 0 {
		fmt.Printf("Average FPS: %.1f\n", float64(stats.FramesProcessed)/secs)
	}

	if recent := sentinel.Alerts().Recent(10); len(recent) > 0 {
		fmt.Println("\nRecent Alerts:")
		for _, r := range recent {
			fmt.Printf("  [%s] %s -> %s\n",
				r.Timestamp.Format("15:04:05"),
				strings.Join(r.Labels, ", "),
				r.ScreenshotPath,
			)
		}
	}
	fmt.Println(line + "\n")
}
