package main

import (
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mercavio/retail_backend/utils"
)

// Mints a bearer token for API access, signed with API_SECRET. Meant for
// local development and operational scripts; user management lives outside
// this service.
func main() {
	id := flag.Int("id", 0, "Actor id to embed in the token")
	name := flag.String("name", "", "Actor name to embed in the token")
	role := flag.String("role", "cashier", "Actor role to embed in the token")
	flag.Parse()

	if *id <= 0 || *name == "" {
		fmt.Fprintln(os.Stderr, "usage: issue-token -id <actor id> -name <actor name> [-role <role>]")
		os.Exit(1)
	}

	token, err := utils.JwtGenerate(*id, *name, *role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generating token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
