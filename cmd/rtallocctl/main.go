// Command rtallocctl replays, fuzzes and simulates block-allocator workloads.
package main

func main() {
	execute()
}
