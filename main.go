package main

import "github.com/shouni/go-estate-crawl/cmd"

func main() {
	cmd.Execute()
}
