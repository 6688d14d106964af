package web

import "embed"

// Templates embeds document HTML templates.
//
//go:embed templates/**/*.html
var Templates embed.FS

// Static embeds the default document logo.
//
//go:embed static/**/*
var Static embed.FS

// Terms embeds the default purchase order terms and conditions.
//
//go:embed terms/*.txt
var Terms embed.FS
