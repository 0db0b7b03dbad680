package resilience

import "time"

// Config is the retry and breaker policy shared by one Executor.
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	// CallTimeout bounds each attempt separately; zero keeps the caller's deadline.
	CallTimeout time.Duration

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

// Profile names a class of downstream calls tuned separately from the base
// policy.
type Profile string

const (
	// ProfileModel covers local model inference: recognition and normalization.
	ProfileModel Profile = "model"

	// ProfileMessaging covers WhatsApp Cloud API sends, acks and media fetches.
	ProfileMessaging Profile = "messaging"

	// ProfileQueue covers webhook event publishes to NATS.
	ProfileQueue Profile = "queue"
)

const (
	modelMaxAttempts      = 2
	modelMinOpenTimeout   = time.Minute
	queueMaxBackoff       = 200 * time.Millisecond
	messagingMinRequests  = 5
	messagingFailureRatio = 0.6
)

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

// For derives the policy of profile p from c. Model calls get at most two
// attempts and a tripped model breaker stays open for at least a minute. Messaging trips on a smaller sample. Queue
// publishes sit on the webhook path and back off for at most 200ms.
func (c Config) For(p Profile) Config {
	out := c.normalize()
	switch p {
	case ProfileModel:
		if out.RetryMaxAttempts > modelMaxAttempts {
			out.RetryMaxAttempts = modelMaxAttempts
		}
		if out.BreakerOpenTimeout < modelMinOpenTimeout {
			out.BreakerOpenTimeout = modelMinOpenTimeout
		}
	case ProfileMessaging:
		if out.BreakerMinRequests > messagingMinRequests {
			out.BreakerMinRequests = messagingMinRequests
		}
		if out.BreakerFailureRatio < messagingFailureRatio {
			out.BreakerFailureRatio = messagingFailureRatio
		}
	case ProfileQueue:
		if out.RetryMaxBackoff > queueMaxBackoff {
			out.RetryMaxBackoff = queueMaxBackoff
		}
		if out.RetryInitialBackoff > out.RetryMaxBackoff {
			out.RetryInitialBackoff = out.RetryMaxBackoff
		}
	}
	return out
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if out.RetryInitialBackoff <= 0 {
		out.RetryInitialBackoff = def.RetryInitialBackoff
	}
	if out.RetryMaxBackoff <= 0 {
		out.RetryMaxBackoff = def.RetryMaxBackoff
	}
	if out.RetryMaxBackoff < out.RetryInitialBackoff {
		out.RetryMaxBackoff = out.RetryInitialBackoff
	}
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}
	if out.CallTimeout < 0 {
		out.CallTimeout = 0
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}

	return out
}
