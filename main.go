package main

import "github.com/ValentinKolb/rbkv/cmd"

func main() {
	cmd.Execute()
}
