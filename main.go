/*
	Copyright 2023 Markus Papenbrock
*/

package main

import "github.com/mpapenbr/nexttogo-service-go/cmd"

func main() {
	cmd.Execute()
}
