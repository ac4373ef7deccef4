/*
Package templating renders theme templates for the page pipeline.

A theme is a directory of html/template files. A template is referenced by its
path relative to the theme directory and executed against a map of named
values, so a layout rendered with {"content": ..., "title": ...} reads them as
{{.content}} and {{.title}}. Every *.part.html file of the theme directory is
parsed alongside the referenced template and can be included by name.

Output is fully buffered: a failing template returns an error and no partial
output. A reference that cannot be read yields ErrTemplateNotFound.

Besides the formatters registered by the manager (euros, price, dateFull,
markdown, sanitize, raw and the isSet and default helpers), callers can install request-bound functions with
SetRequestFuncs; they are bound per render on a clone of the cached template
set.
*/
package templating
