package main

import "github.com/webq/notify-gateway/cmd"

func main() {
	cmd.Execute()
}
