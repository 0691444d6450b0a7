// smgwctl -- admin CLI for the smgw daemon.
package main

import "github.com/dantte-lp/smgw/cmd/smgwctl/commands"

func main() {
	commands.Execute()
}
