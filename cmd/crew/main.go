// Command crew decomposes a requirement into sub-agent tasks and runs them.
package main

func main() {
	Execute()
}
