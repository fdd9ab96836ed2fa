package main

import "github.com/smallbiznis/fxquote/internal/cli"

func main() {
	cli.Execute()
}
