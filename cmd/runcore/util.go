package main

import "os"

func readFileBestEffort(path string) ([]byte, error) {
	return os.ReadFile(path)
}
