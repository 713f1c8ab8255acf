package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

func main() {
	baseURL := flag.String("base", "http://localhost:3000", "server base url")
	productID := flag.Int("product", 0, "product id, 0 creates a new product")
	stock := flag.Int("stock", 10, "total stock when creating a product")

	// 超卖测试参数：40 个用户并发抢 10 件。所有请求来自同一 IP，总数需低于服务端 RATE_LIMIT_MAX。
	nUsers := flag.Int("users", 40, "distinct users")
	concurrency := flag.Int("c", 20, "max concurrency")
	rateLimit := flag.Int("rate-limit", 100, "server RATE_LIMIT_MAX, used to warn before requests get 429")
	flag.Parse()

	if total := plannedRequests(*nUsers, *productID == 0); total > *rateLimit {
		fmt.Printf("WARNING: %d requests from one IP exceed rate limit %d; raise RATE_LIMIT_MAX on the server or lower -users\n",
			total, *rateLimit)
	}

	client := &http.Client{Timeout: 5 * time.Second}

	if *productID == 0 {
		id, err := createProduct(client, *baseURL, *stock)
		if err != nil {
			panic(fmt.Sprintf("create product failed: %v", err))
		}
		*productID = id
		fmt.Printf("created product=%d stock=%d\n", id, *stock)
	}

	// 1) 占位：不同 user 并发各占 1 件
	fmt.Printf("start reserve: product=%d users=%d concurrency=%d\n", *productID, *nUsers, *concurrency)
	reserved := runAll(*nUsers, *concurrency, func(idx int) Result {
		return postJSON(client, fmt.Sprintf("%s/api/products/%d/reserve", *baseURL, *productID),
			map[string]any{"userId": userName(idx), "quantity": 1})
	})
	printSummary("reserve", reserved)

	// 2) 结算：所有 user 并发结算，只有占位成功的能成交
	checkedOut := runAll(*nUsers, *concurrency, func(idx int) Result {
		return postJSON(client, fmt.Sprintf("%s/api/products/%d/checkout", *baseURL, *productID),
			map[string]any{"userId": userName(idx)})
	})
	printSummary("checkout", checkedOut)

	st, err := getStatus(client, *baseURL, *productID)
	if err != nil {
		fmt.Println("status check err:", err)
		return
	}
	fmt.Printf("final status: total=%d reserved=%d available=%d\n", st.TotalStock, st.ReservedStock, st.AvailableStock)
	if st.TotalStock < 0 {
		fmt.Println("OVERSOLD")
	}
}

// plannedRequests 估算一次压测发出的请求数：每个用户 reserve + checkout，外加建商品与最终查询。
func plannedRequests(users int, create bool) int {
	n := 2*users + 1
	if create {
		n++
	}
	return n
}

func userName(idx int) string { return fmt.Sprintf("user-%d", idx+1) }

func runAll(total, concurrency int, fn func(idx int) Result) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = fn(idx)
		}(i)
	}

	wg.Wait()
	return results
}

func postJSON(client *http.Client, url string, body any) Result {
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(out)}
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 404, 429, 500} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

func createProduct(client *http.Client, baseURL string, stock int) (int, error) {
	res := postJSON(client, baseURL+"/api/products", map[string]any{
		"name":        "loadtest item",
		"description": "created by loadtest",
		"price":       "9.99",
		"totalStock":  stock,
	})
	if res.Err != nil {
		return 0, res.Err
	}
	if res.Status != http.StatusCreated {
		return 0, fmt.Errorf("status=%d body=%s", res.Status, res.Body)
	}
	var out struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal([]byte(res.Body), &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

type status struct {
	TotalStock     int64 `json:"totalStock"`
	ReservedStock  int64 `json:"reservedStock"`
	AvailableStock int64 `json:"availableStock"`
}

// getStatus 查询压测后的库存状态，用于校验是否超卖。
func getStatus(client *http.Client, baseURL string, productID int) (status, error) {
	resp, err := client.Get(fmt.Sprintf("%s/api/products/%d/status", baseURL, productID))
	if err != nil {
		return status{}, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return status{}, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	var st status
	if err := json.Unmarshal(b, &st); err != nil {
		return status{}, err
	}
	return st, nil
}
