package main

import "github.com/ValentinKolb/rcam/cmd"

func main() {
	cmd.Execute()
}
