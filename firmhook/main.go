// Command firmhook runs firmware under an emulator with its hardware calls
// intercepted.
package main

import "github.com/sarchlab/firmhook/firmhook/cmd"

func main() {
	cmd.Execute()
}
