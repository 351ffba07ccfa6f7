package detector

import (
	"context"
	"testing"

	"github.com/sentinelshield/sentinel/internal/types"
)

// TestScriptedFiresEveryNth validates the deterministic cadence: the
// configured detections appear on every Nth frame and nowhere else.
func TestScriptedFiresEveryNth(t *testing.T) {
	det := NewScripted("test", 3, []ScriptedDetection{
		{Label: "pistol", Score: 0.95},
		{Label: "rifle", Score: 0.88},
	})

	ctx := context.Background()
	frame := types.Frame{Seq: 1, Data: []byte{1, 2, 3}}

	for i := 1; i <= 9; i++ {
		result, err := det.Detect(ctx, frame)
		if err != nil {
			t.Fatalf("frame %d: Detect() failed: %v", i, err)
		}

		wantFire := i%3 == 0
		if result.HasDetection != wantFire {
			t.Errorf("frame %d: HasDetection = %v, want %v", i, result.HasDetection, wantFire)
		}
		if wantFire {
			if len(result.Labels) != 2 || result.Labels[0] != "pistol" || result.Labels[1] != "rifle" {
				t.Errorf("frame %d: Labels = %v", i, result.Labels)
			}
			if len(result.Scores) != 2 || result.Scores[0] != 0.95 {
				t.Errorf("frame %d: Scores = %v", i, result.Scores)
			}
		}
	}
}

// TestScriptedNeverFires validates the inert configuration used when no
// worker is configured: every frame passes through untouched.
func TestScriptedNeverFires(t *testing.T) {
	det := NewScripted("test", 0, nil)
	ctx := context.Background()

	frame := types.Frame{Seq: 7, Data: []byte{9, 9, 9}}
	for i := 0; i < 5; i++ {
		result, err := det.Detect(ctx, frame)
		if err != nil {
			t.Fatalf("Detect() failed: %v", err)
		}
		if result.HasDetection {
			t.Fatal("inert detector reported a detection")
		}
		if result.Annotated.Seq != frame.Seq {
			t.Errorf("passthrough frame seq = %d, want %d", result.Annotated.Seq, frame.Seq)
		}
	}
}

// TestScriptedLifecycle validates the no-op Start/Stop contract.
func TestScriptedLifecycle(t *testing.T) {
	det := NewScripted("test", 1, nil)

	if det.ID() != "test" {
		t.Errorf("ID() = %q", det.ID())
	}
	if err := det.Start(context.Background()); err != nil {
		t.Errorf("Start() failed: %v", err)
	}
	if err := det.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}
}
