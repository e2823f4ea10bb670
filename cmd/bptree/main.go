// Command bptree is a small CLI for creating and inspecting a BPTree
// database file.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/oda/bptree"
)

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, path := args[0], args[1]
	rest := args[2:]

	var err error
	switch cmd {
	case "init":
		err = cmdInit(path)
	case "get":
		err = cmdGet(path, rest)
	case "put":
		err = cmdPut(path, rest)
	case "delete":
		err = cmdDelete(path, rest)
	case "check":
		err = cmdCheck(path)
	case "dump":
		err = cmdDump(path)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "bptree: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: bptree <command> <path> [args]

commands:
  init   <path>              create a new, empty database file
  get    <path> <key>        print the value for key
  put    <path> <key> <value> insert or overwrite a key
  delete <path> <key>        remove a key
  check  <path>              verify structural invariants
  dump   <path>               print the tree structure
`)
}

func cmdInit(path string) error {
	tree, err := bptree.Open(path)
	if err != nil {
		return err
	}
	return tree.Close()
}

func cmdGet(path string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("get requires a key")
	}
	key, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid key: %w", err)
	}

	tree, err := bptree.Open(path)
	if err != nil {
		return err
	}
	defer tree.Close()

	val, ok := tree.Get(key)
	if !ok {
		return fmt.Errorf("key %d not found", key)
	}
	fmt.Println(val)
	return nil
}

func cmdPut(path string, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("put requires a key and a value")
	}
	key, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid key: %w", err)
	}
	value, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}

	tree, err := bptree.Open(path)
	if err != nil {
		return err
	}
	defer tree.Close()

	if err := tree.Put(key, value); err != nil {
		return err
	}
	return tree.Flush()
}

func cmdDelete(path string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("delete requires a key")
	}
	key, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid key: %w", err)
	}

	tree, err := bptree.Open(path)
	if err != nil {
		return err
	}
	defer tree.Close()

	if !tree.Delete(key) {
		return fmt.Errorf("key %d not found", key)
	}
	return tree.Flush()
}

func cmdCheck(path string) error {
	tree, err := bptree.Open(path)
	if err != nil {
		return err
	}
	defer tree.Close()

	if err := tree.CheckTree(); err != nil {
		return err
	}
	fmt.Printf("ok, %d records\n", tree.Count())
	return nil
}

func cmdDump(path string) error {
	tree, err := bptree.Open(path)
	if err != nil {
		return err
	}
	defer tree.Close()

	tree.PrintTree(os.Stdout)
	return nil
}
