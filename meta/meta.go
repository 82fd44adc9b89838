// Package meta provides metadata of grdisco.
package meta

import version "github.com/hashicorp/go-version"

// AppName is the name of the application.
const AppName = "grdisco"

// Version is the semantic version of grdisco.
var Version = version.Must(version.NewSemver("0.3.1"))
