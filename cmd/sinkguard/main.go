// sinkguard is the operator CLI: installation checks, companion control,
// configuration inspection and scenario replay.
package main

import "github.com/ppiankov/sinkguard/internal/cli"

func main() {
	cli.Execute()
}
