// cmd/cribbslab/main.go
package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/Acribbs/cribbslab/internal/app"
	"github.com/Acribbs/cribbslab/internal/appshell"
)

func main() {
	status := &app.Status{}
	cmd, err := app.New(status, app.Deps{})
	if err != nil {
		log.Fatal(err)
	}
	appshell.Main(cmd, status)
}
