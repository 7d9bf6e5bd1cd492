package main

import "github.com/ogulcanaydogan/hotel-price-guardian/internal/cli"

func main() {
	cli.Execute()
}
