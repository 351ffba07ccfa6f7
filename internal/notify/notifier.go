// Package notify plays the audible alert cue.
package notify

import (
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// playTimeout bounds a single playback invocation so a hung player
// cannot accumulate goroutines across alerts.
const playTimeout = 10 * time.Second

// CommandNotifier plays a sound file through an external player command
// (aplay, paplay, afplay, ...). Playback runs on its own goroutine;
// failures are logged and never propagated; a broken sound setup must
// not affect alerting.
type CommandNotifier struct {
	command   string
	soundFile string
	log       *slog.Logger
}

// NewCommandNotifier creates a notifier, or nil when the configuration
// does not support sound (missing command or sound file). A nil notifier
// is the documented "absent" variant: callers skip it entirely.
func NewCommandNotifier(command, soundFile string) *CommandNotifier {
	log := slog.With("component", "notify")

	if command == "" {
		return nil
	}
	if _, err := os.Stat(soundFile); err != nil {
		log.Warn("sound file not found, sound alerts disabled",
			"sound_file", soundFile,
			"error", err,
		)
		return nil
	}
	if _, err := exec.LookPath(command); err != nil {
		log.Warn("sound player not found, sound alerts disabled",
			"command", command,
			"error", err,
		)
		return nil
	}

	log.Info("sound system initialized", "command", command, "sound_file", soundFile)
	return &CommandNotifier{
		command:   command,
		soundFile: soundFile,
		log:       log,
	}
}

// PlayAsync dispatches playback and returns immediately.
// Implements alert.Notifier.
func (n *CommandNotifier) PlayAsync() {
	go func() {
		cmd := exec.Command(n.command, n.soundFile)
		if err := cmd.Start(); err != nil {
			n.log.Error("failed to start sound playback", "error", err)
			return
		}

		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()

		select {
		case err := <-done:
			if err != nil {
				n.log.Error("sound playback failed", "error", err)
			}
		case <-time.After(playTimeout):
			_ = cmd.Process.Kill()
			<-done
			n.log.Warn("sound playback timed out, killed player", "timeout", playTimeout)
		}
	}()
}
