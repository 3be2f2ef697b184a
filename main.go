package main

import "github.com/yofarm-hub/ussd/cmd"

func main() {
	cmd.Execute()
}
