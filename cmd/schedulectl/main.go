package main

import "github.com/0xPuncker/job-scheduler/internal/cli"

func main() {
	cli.Main()
}
