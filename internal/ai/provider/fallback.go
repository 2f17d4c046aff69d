package provider

import (
	"context"

	"github.com/rs/zerolog"
)

// Fallback tries Preferred first and hands any failure to Backup with the
// model override cleared, so Backup uses its own model. It is one-directional:
// Backup failures are returned as is.
type Fallback struct {
	Preferred Provider
	Backup    Provider
}

// Name reports the preferred provider; the actual server is on Response.
func (f *Fallback) Name() Name { return f.Preferred.Name() }

// Available implements Provider.
func (f *Fallback) Available() bool {
	return f.Preferred.Available() || f.Backup.Available()
}

// Call implements Provider.
func (f *Fallback) Call(ctx context.Context, system, user string, opts Options) (*Response, error) {
	if f.Preferred.Available() {
		resp, err := f.Preferred.Call(ctx, system, user, opts)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		zerolog.Ctx(ctx).Warn().
			Err(err).
			Str("provider", string(f.Preferred.Name())).
			Str("fallback", string(f.Backup.Name())).
			Msg("ai provider failed, falling back")
	}
	opts.Model = ""
	return f.Backup.Call(ctx, system, user, opts)
}
