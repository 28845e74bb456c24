package main

import "waggle/cmd"

func main() {
	cmd.Execute()
}
