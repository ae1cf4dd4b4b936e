// Command zfsbackup takes incremental, resumable, optionally end-to-end
// encrypted backups of a zfs dataset to S3.
package main

import (
	"log"

	"github.com/saworbit/zfsbackup/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		log.Fatal(err)
	}
}
