// Command protscan reports the copy protection found in game distribution
// files.
package main

func main() {
	execute()
}
