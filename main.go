// Command hap-runner automates the USB permission test apps over hdc.
package main

import "github.com/devicelab-dev/hap-runner/pkg/cli"

func main() {
	cli.Execute()
}
