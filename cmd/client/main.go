package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	maxGenerateCount = 2000
	codeLength       = 8
)

func main() {
	var addr string
	var timeout time.Duration
	flag.StringVar(&addr, "addr", "http://localhost:5000", "服务地址")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "请求超时")
	flag.Parse()

	client := NewDiscountClient(addr, timeout)

	fmt.Println("===== Discount Code Client =====")
	fmt.Printf("Connected to: %s\n\n", client.BaseURL())

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Println("Choose an option:")
		fmt.Println("1. Generate discount codes")
		fmt.Println("2. Use a discount code")
		fmt.Println("3. Exit")
		fmt.Print("\nChoose an option: ")

		choice, ok := readLine(reader)
		if !ok {
			return
		}
		fmt.Println()

		switch choice {
		case "1":
			generateCodes(reader, client)
		case "2":
			useCode(reader, client)
		case "3":
			return
		default:
			fmt.Println("Invalid choice. Try again.")
			fmt.Println()
		}
	}
}

func generateCodes(reader *bufio.Reader, client *DiscountClient) {
	fmt.Printf("Input number of codes to generate (1-%d): ", maxGenerateCount)
	line, _ := readLine(reader)
	count, err := strconv.Atoi(line)
	if err != nil || count < 1 || count > maxGenerateCount {
		fmt.Printf("Invalid number. Please enter a value between 1 and %d.\n\n", maxGenerateCount)
		return
	}

	fmt.Printf("\nGenerating %d discount codes...\n", count)
	start := time.Now()
	result, err := client.Generate(count)
	elapsed := time.Since(start).Milliseconds()
	switch {
	case err != nil:
		fmt.Printf("Request failed: %v\n", err)
	case result.Success:
		fmt.Printf("Successfully generated %d discount codes in %dms.\n", result.GeneratedCount, elapsed)
	default:
		fmt.Printf("Generation incomplete: %d of %d codes stored in %dms.\n", result.GeneratedCount, count, elapsed)
	}
	fmt.Println()
}

func useCode(reader *bufio.Reader, client *DiscountClient) {
	fmt.Print("Enter discount code: ")
	line, _ := readLine(reader)
	code := strings.ToUpper(line)
	if len(code) != codeLength {
		fmt.Printf("Invalid code format. Code must be %d characters.\n\n", codeLength)
		return
	}

	fmt.Printf("\nUsing discount code: %s\n", code)
	redeemed, err := client.Redeem(code)
	switch {
	case err != nil:
		fmt.Printf("Request failed: %v\n", err)
	case redeemed:
		fmt.Println("Code successfully used!")
	default:
		fmt.Println("Failed to use code (invalid or already used)")
	}
	fmt.Println()
}

func readLine(reader *bufio.Reader) (string, bool) {
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", false
	}
	return strings.TrimSpace(line), true
}
