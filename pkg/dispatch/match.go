package dispatch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/CTAG07/Ulysse/pkg/pages"
	"github.com/CTAG07/Ulysse/pkg/reqctx"
)

// Resolve returns the page declared for path. When several pages declare the
// same path the last one wins. Unknown paths set a 404 status and resolve to
// the not-found page, or to the empty declaration if the site declares none.
func (d *Dispatcher) Resolve(ctx context.Context, path string) pages.Declaration {
	if page, ok := pages.ByPath(path, d.pages.All(ctx)); ok {
		return page
	}
	store := reqctx.FromContext(ctx)
	store.Log(reqctx.LevelNotification, fmt.Sprintf("No page declared for path '%s'", path))
	store.SetStatus(http.StatusNotFound)
	if page, ok := d.pages.ByKey(ctx, pages.NotFoundID); ok {
		return page
	}
	store.Log(reqctx.LevelWarning, fmt.Sprintf("No %s page declared, rendering an empty page", pages.NotFoundID))
	return pages.Declaration{}
}
