/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"os"

	"geotxn/cmd/geotxn"
)

func main() {
	geotxn.NewCLI().Run(os.Args[1:])
}
