package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Dicklesworthstone/waynotify/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "waynotify:", err)
		os.Exit(1)
	}
}
