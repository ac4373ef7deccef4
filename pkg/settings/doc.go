/*
Package settings provides the lazily loaded, memoized site settings store.

Settings are read from a base YAML file and an optional local override file.
The override is merged shallowly: a key present in the local file replaces the
base entry for that key entirely. The merged mapping is loaded on first access
and reused for the lifetime of the Store.
*/
package settings
