// Package extract routes a scanned image through an ordered list of
// OCR/vision providers until one returns a well-formed result.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Intent tells a provider what structure to pull out of the image.
type Intent string

const (
	// IntentGeneral extracts whatever fields are visible on the sheet.
	IntentGeneral Intent = "general"
	// IntentObjectiveSheet extracts entry number, name and MCQ answers.
	IntentObjectiveSheet Intent = "objective_sheet"
	// IntentAnswerKey extracts question/option/marks rows from a key document.
	IntentAnswerKey Intent = "answer_key"
)

// ErrExhausted is returned when every configured provider lacked
// credentials, timed out, or produced an invalid response. The caller
// should mark the submission unprocessed, not abort the batch.
var ErrExhausted = errors.New("extraction exhausted: all providers failed")

// Attempt outcomes recorded in the attempts log.
const (
	AttemptOK            = "ok"
	AttemptNoCredentials = "no_credentials"
	AttemptTimeout       = "timeout"
	AttemptError         = "error"
	AttemptInvalid       = "invalid"
)

// Provider is one OCR/vision backend.
type Provider interface {
	Name() string
	// Available reports whether the provider has credentials configured.
	Available() error
	Extract(ctx context.Context, image []byte, mime string, intent Intent) (Fields, error)
}

// Attempt is one entry in a router invocation's attempts log.
type Attempt struct {
	Provider string        `json:"provider"`
	Outcome  string        `json:"outcome"`
	Latency  time.Duration `json:"latency"`
}

// Extraction is a successful router result.
type Extraction struct {
	Fields
	ProviderUsed string    `json:"provider_used"`
	Attempts     []Attempt `json:"attempts"`
}

// Router tries providers in priority order with a per-provider timeout.
// A router carries no mutable state; one instance is safe for concurrent
// use across submissions.
type Router struct {
	providers []Provider
	timeout   time.Duration
}

// NewRouter builds a router. The provider order is the failover order.
func NewRouter(timeout time.Duration, providers ...Provider) *Router {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Router{providers: providers, timeout: timeout}
}

// Extract tries each provider until one returns a response that passes
// the intent's schema validation. A provider exceeding the timeout is
// marked and skipped, never retried within the same invocation.
func (r *Router) Extract(ctx context.Context, image []byte, mime string, intent Intent) (Extraction, error) {
	attempts := make([]Attempt, 0, len(r.providers))

	for _, p := range r.providers {
		if err := ctx.Err(); err != nil {
			return Extraction{Attempts: attempts}, fmt.Errorf("%w: %v", ErrExhausted, err)
		}
		if err := p.Available(); err != nil {
			slog.Debug("provider skipped", "provider", p.Name(), "reason", err)
			attempts = append(attempts, Attempt{Provider: p.Name(), Outcome: AttemptNoCredentials})
			continue
		}

		pctx, cancel := context.WithTimeout(ctx, r.timeout)
		start := time.Now()
		fields, err := p.Extract(pctx, image, mime, intent)
		latency := time.Since(start)
		timedOut := pctx.Err() == context.DeadlineExceeded
		cancel()

		switch {
		case err != nil && timedOut:
			slog.Warn("provider timed out", "provider", p.Name(), "latency", latency)
			attempts = append(attempts, Attempt{Provider: p.Name(), Outcome: AttemptTimeout, Latency: latency})
		case err != nil:
			slog.Warn("provider failed", "provider", p.Name(), "error", err)
			attempts = append(attempts, Attempt{Provider: p.Name(), Outcome: AttemptError, Latency: latency})
		default:
			if verr := fields.validate(intent); verr != nil {
				slog.Warn("provider response invalid", "provider", p.Name(), "error", verr)
				attempts = append(attempts, Attempt{Provider: p.Name(), Outcome: AttemptInvalid, Latency: latency})
				continue
			}
			attempts = append(attempts, Attempt{Provider: p.Name(), Outcome: AttemptOK, Latency: latency})
			return Extraction{Fields: fields, ProviderUsed: p.Name(), Attempts: attempts}, nil
		}
	}

	return Extraction{Attempts: attempts}, fmt.Errorf("%w (%d providers tried)", ErrExhausted, len(attempts))
}

// ProviderStatus reports whether a provider can currently be tried.
type ProviderStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// Status returns the availability of each provider in failover order.
func (r *Router) Status() []ProviderStatus {
	statuses := make([]ProviderStatus, 0, len(r.providers))
	for _, p := range r.providers {
		st := ProviderStatus{Name: p.Name(), Available: true}
		if err := p.Available(); err != nil {
			st.Available = false
			st.Reason = err.Error()
		}
		statuses = append(statuses, st)
	}
	return statuses
}
