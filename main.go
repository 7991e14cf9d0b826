package main

import "crudstress/cmd"

func main() {
	cmd.Execute()
}
