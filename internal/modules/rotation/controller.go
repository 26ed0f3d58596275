package rotation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/copilot-adoption-backend/internal/data/repos"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/identcrypt"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

var (
	ErrMissingKeyName = errors.New("rotation: new key name is required")
	ErrSameKey        = errors.New("rotation: new key equals the active key")
	// ErrWorkPending means queued or running per-user aggregations still
	// carry identifiers under the active key.
	ErrWorkPending = errors.New("rotation: user aggregations still pending")
	// ErrKeyNotSwitched means the process still encrypts with a key other
	// than the one the prepared rotation moved the data to.
	ErrKeyNotSwitched = errors.New("rotation: running key does not match the rotated key")
)

// Backlog reports per-user aggregation work that has been sent but not
// finished.
type Backlog interface {
	Pending(ctx context.Context) (int64, error)
}

type ControllerDeps struct {
	Log           *logger.Logger
	State         repos.StateRepo
	Processor     *Processor
	Secrets       identcrypt.SecretProvider
	ActiveKeyName string
	// Enc is the service the process encrypts with. Confirm compares its
	// fingerprint with the rotated key.
	Enc *identcrypt.Service
	// Optional. Without it Prepare does not wait for the queue to drain.
	Backlog Backlog
}

// Controller drives the two-phase rotation. Prepare pauses ingestion and
// moves data to the new key; the operator then switches the active key name,
// restarts, and calls Confirm to resume ingestion.
type Controller struct {
	log       *logger.Logger
	state     repos.StateRepo
	proc      *Processor
	secrets   identcrypt.SecretProvider
	activeKey string
	enc       *identcrypt.Service
	backlog   Backlog
}

func NewController(deps ControllerDeps) *Controller {
	return &Controller{
		log:       deps.Log.With("service", "KeyRotationController"),
		state:     deps.State,
		proc:      deps.Processor,
		secrets:   deps.Secrets,
		activeKey: deps.ActiveKeyName,
		enc:       deps.Enc,
		backlog:   deps.Backlog,
	}
}

// Prepare rotates every table to the key stored under newKeyName. Ingestion
// stays paused afterwards, also on failure. Passing the run id of an earlier
// attempt resumes it; an empty run id starts a new run.
//
// Prepare refuses to start while per-user aggregations are pending: their
// messages name users by the old ciphertext and would find no staged
// snapshot once the staging table moved.
func (c *Controller) Prepare(ctx context.Context, newKeyName, runID string) (Report, error) {
	newKeyName = strings.TrimSpace(newKeyName)
	if newKeyName == "" {
		return Report{}, ErrMissingKeyName
	}
	if err := c.checkBacklog(ctx); err != nil {
		return Report{}, err
	}
	wasPaused, err := c.state.IsPaused(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("read pause flag: %w", err)
	}
	if err := c.state.SetPaused(ctx, true); err != nil {
		return Report{}, fmt.Errorf("pause ingestion: %w", err)
	}
	c.log.Info("Ingestion paused for key rotation", "new_key", newKeyName)

	// Work sent between the first check and the pause.
	if err := c.checkBacklog(ctx); err != nil {
		if !wasPaused {
			if rerr := c.state.SetPaused(ctx, false); rerr != nil {
				c.log.Error("Failed to resume ingestion after refused rotation", "error", rerr)
			}
		}
		return Report{}, err
	}

	oldSvc, err := identcrypt.NewFromActiveKey(ctx, c.secrets, c.activeKey)
	if err != nil {
		return Report{}, fmt.Errorf("load active key: %w", err)
	}
	newSvc, err := identcrypt.NewFromNamedKey(ctx, c.secrets, newKeyName)
	if err != nil {
		return Report{}, fmt.Errorf("load new key %q: %w", newKeyName, err)
	}
	if runID = strings.TrimSpace(runID); runID == "" {
		runID = uuid.NewString()
	}
	if oldSvc.Fingerprint() != newSvc.Fingerprint() {
		if err := c.state.SetRotationTarget(ctx, newSvc.Fingerprint()); err != nil {
			return Report{}, fmt.Errorf("record rotation target: %w", err)
		}
	}
	rep, err := c.proc.RotateAll(ctx, runID, oldSvc, newSvc)
	if err != nil {
		return rep, fmt.Errorf("rotate: %w", err)
	}
	return rep, nil
}

func (c *Controller) checkBacklog(ctx context.Context) error {
	if c.backlog == nil {
		return nil
	}
	n, err := c.backlog.Pending(ctx)
	if err != nil {
		return fmt.Errorf("read aggregation backlog: %w", err)
	}
	if n > 0 {
		c.log.Warn("Refusing key rotation while user aggregations are pending", "pending", n)
		return fmt.Errorf("%w: %d", ErrWorkPending, n)
	}
	return nil
}

// Confirm resumes ingestion. After a prepared rotation it only does so once
// the process encrypts with the rotated key.
func (c *Controller) Confirm(ctx context.Context) error {
	target, err := c.state.RotationTarget(ctx)
	if err != nil {
		return fmt.Errorf("read rotation target: %w", err)
	}
	if target != "" {
		if c.enc == nil || c.enc.Fingerprint() != target {
			c.log.Warn("Refusing to resume ingestion before the key switch")
			return ErrKeyNotSwitched
		}
	}
	if err := c.state.SetPaused(ctx, false); err != nil {
		return fmt.Errorf("resume ingestion: %w", err)
	}
	if target != "" {
		if err := c.state.SetRotationTarget(ctx, ""); err != nil {
			return fmt.Errorf("clear rotation target: %w", err)
		}
	}
	c.log.Info("Ingestion resumed after key rotation")
	return nil
}
