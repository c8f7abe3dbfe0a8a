package i18n

import "embed"

// EmbeddedLocales contains locales/*.json.
//
//go:embed locales/*.json
var EmbeddedLocales embed.FS
