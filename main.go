package main

import "github.com/KaramelBytes/tabsense-cli/cmd"

func main() {
	cmd.Execute()
}
