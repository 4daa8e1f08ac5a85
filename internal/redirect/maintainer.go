// Package redirect maintains vanity-URL redirect mappings so pre-migration
// identifiers keep resolving after a move and stop resolving after a revert.
package redirect

import (
	"context"
	"strings"

	"github.com/alecgard/annex/internal/directory"
	"github.com/alecgard/annex/internal/status"
)

// Maintainer creates and removes redirect mappings against the directory
// store. Targets are built from the configured site origin.
type Maintainer struct {
	store  directory.Store
	origin string
}

// NewMaintainer creates a Maintainer. origin is the organization site origin,
// e.g. "https://example.com"; a trailing slash is stripped.
func NewMaintainer(store directory.Store, origin string) *Maintainer {
	return &Maintainer{store: store, origin: strings.TrimRight(origin, "/")}
}

// UserTarget returns the organization URL a migrated user resolves to.
func (m *Maintainer) UserTarget(username string) string {
	return m.origin + "/" + username
}

// TeamTarget returns the organization URL a relocated team resolves to.
func (m *Maintainer) TeamTarget(slug string) string {
	return m.origin + "/team/" + slug
}

// Add upserts the mapping (typ, from, fromOrgID) → toURL: created if absent,
// target overwritten if present.
func (m *Maintainer) Add(ctx context.Context, typ directory.RedirectType, from string, fromOrgID int64, toURL string) error {
	if from == "" {
		return status.InvalidArgument("redirect source identifier is empty")
	}
	err := m.store.UpsertRedirect(ctx, directory.Redirect{
		Type:      typ,
		From:      from,
		FromOrgID: fromOrgID,
		ToURL:     toURL,
	})
	if err != nil {
		return status.Internal(err, "adding %s redirect for %q", typ, from)
	}
	return nil
}

// Remove deletes the mapping (typ, from, fromOrgID). Absence is not an error;
// the operation is idempotent under double-invocation.
func (m *Maintainer) Remove(ctx context.Context, typ directory.RedirectType, from string, fromOrgID int64) error {
	if from == "" {
		return nil
	}
	if err := m.store.DeleteRedirects(ctx, typ, from, fromOrgID); err != nil {
		return status.Internal(err, "removing %s redirect for %q", typ, from)
	}
	return nil
}
