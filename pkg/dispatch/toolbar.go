package dispatch

import (
	"bytes"
	"fmt"
	"html/template"
	"maps"
	"slices"
	"time"

	"github.com/CTAG07/Ulysse/pkg/reqctx"
	"github.com/dustin/go-humanize"
)

var toolbarTemplate = template.Must(template.New("toolbar").Parse(`
<div id="developer-toolbar" style="position:fixed;bottom:0;left:0;right:0;max-height:40%;overflow:auto;background:#222;color:#eee;font:12px monospace;padding:8px">
<strong>Rendered in {{.Elapsed}}</strong>
<table>
{{- range .Logs}}
<tr class="log-{{.Level}}"><td>{{.Level}}</td><td>{{.Detail}}</td></tr>
{{- end}}
</table>
<table>
{{- range .Context}}
<tr><td>{{.Key}}</td><td>{{.Value}}</td></tr>
{{- end}}
</table>
</div>
`))

type toolbarVar struct {
	Key   string
	Value string
}

// toolbar renders the request log and the context of store. Values are
// printed with %v and escaped by the template.
func (d *Dispatcher) toolbar(store *reqctx.Store) string {
	snapshot := store.Snapshot()
	vars := make([]toolbarVar, 0, len(snapshot))
	for _, k := range slices.Sorted(maps.Keys(snapshot)) {
		vars = append(vars, toolbarVar{Key: k, Value: fmt.Sprintf("%v", snapshot[k])})
	}

	elapsed := "unknown time"
	if start, ok := snapshot[reqctx.KeyTimeStart].(time.Time); ok {
		elapsed = humanize.SIWithDigits(time.Since(start).Seconds(), 2, "s")
	}

	var buf bytes.Buffer
	err := toolbarTemplate.Execute(&buf, map[string]any{
		"Elapsed": elapsed,
		"Logs":    store.Logs(),
		"Context": vars,
	})
	if err != nil {
		d.logger.Warn("Failed to render developer toolbar", "error", err)
		return ""
	}
	return buf.String()
}
