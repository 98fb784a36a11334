package tilego

import (
	"log/slog"

	"github.com/hupe1980/tilego/commit"
	"github.com/hupe1980/tilego/crypto"
	"github.com/hupe1980/tilego/resource"
)

type options struct {
	resources *resource.Controller
	key       crypto.Key
	logger    *slog.Logger
	commits   commit.Store
}

// Option configures Open behavior.
type Option func(*options)

// WithResources shares a resource controller across arrays. Metadata loads
// charge their memory against it and reads pace against its IO limit.
func WithResources(c *resource.Controller) Option {
	return func(o *options) {
		o.resources = c
	}
}

// WithMemoryBudget caps metadata memory for this array alone. Convenience
// wrapper for WithResources with a dedicated controller.
func WithMemoryBudget(bytes int64) Option {
	return func(o *options) {
		o.resources = resource.NewController(resource.Config{MemoryBudgetBytes: bytes})
	}
}

// WithEncryptionKey sets the key generic tiles are encrypted with. All
// fragments of the array must share it.
func WithEncryptionKey(key crypto.Key) Option {
	return func(o *options) {
		o.key = key
	}
}

// WithCommitStore overrides where commit sentinels live. The default keeps
// them on the array's own filesystem; a DynamoDB-backed store gives
// conditional-put semantics on object stores without atomic create.
func WithCommitStore(s commit.Store) Option {
	return func(o *options) {
		o.commits = s
	}
}

// WithLogger configures structured logging. Pass nil to disable.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.Logger
		}
	}
}

// WithLogLevel creates a text logger at the given level. Convenience
// wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level).Logger
	}
}

func applyOptions(optFns []Option) options {
	o := options{}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	return o
}
