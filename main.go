package main

import (
	"os"

	"github.com/grdisco/grdisco/app"
	"github.com/grdisco/grdisco/cui"
)

func main() {
	os.Exit(app.New(cui.New(cui.Colorable())).Run(os.Args[1:]))
}
