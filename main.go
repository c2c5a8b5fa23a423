package main

import "github.com/kebairia/backupd/cmd"

func main() {
	cmd.Execute()
}
