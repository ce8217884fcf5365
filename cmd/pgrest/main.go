// Command pgrest compiles and runs PostgREST-style queries against
// PostgreSQL resources.
package main

func main() {
	Main()
}
