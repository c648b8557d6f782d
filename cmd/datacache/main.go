// Copyright © 2018 One Concern

package main

import (
	"github.com/oneconcern/datacache/cmd/datacache/cmd"
)

func main() {
	cmd.Execute()
}
