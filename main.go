package main

import "skipline-backend/cmd"

func main() {
	cmd.Execute()
}
