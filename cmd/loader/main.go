// Command loader consumes object-created notifications and loads the announced blobs into
// the table store. Inside AWS Lambda it serves SQS batches instead of polling.
package main

import (
	"context"
	"os"

	_ "embed"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tigerroll/citybike/internal/app"
)

//go:embed resources/application.yaml
var embeddedConfig []byte

func main() {
	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}
	app.RunLoader(context.Background(), envFilePath, embeddedConfig, app.DBProviderOptions())
}
