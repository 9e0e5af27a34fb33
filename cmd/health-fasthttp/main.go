// Command health-fasthttp is the fasthttp twin of health-nethttp: same
// probe contract, kept to measure router+net overhead against the
// net/http variant.
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

func probeHandler(target, ver string, client *fasthttp.Client, timeout time.Duration) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/health", "/healthz":
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		ctx.Response.Header.Set("Content-Type", "application/json")
		if target == "" {
			ctx.SetStatusCode(fasthttp.StatusOK)
			fmt.Fprintf(ctx, "{\"status\":\"ok\",\"version\":%q}", ver)
			return
		}

		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)
		req.SetRequestURI(target + "/readyz")

		if err := client.DoTimeout(req, resp, timeout); err != nil {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			fmt.Fprintf(ctx, "{\"status\":\"unreachable\",\"version\":%q}", ver)
			return
		}
		if resp.StatusCode() != fasthttp.StatusOK {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			fmt.Fprintf(ctx, "{\"status\":\"not ready\",\"version\":%q}", ver)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusOK)
		fmt.Fprintf(ctx, "{\"status\":\"ok\",\"upstream\":\"ready\",\"version\":%q}", ver)
	}
}

func main() {
	addr := flag.String("addr", ":8081", "listen address for fasthttp health probe")
	ver := flag.String("version", "dev", "version string to return")
	target := flag.String("target", "", "parley admin base URL to probe (e.g. http://127.0.0.1:9090)")
	flag.Parse()

	h := probeHandler(*target, *ver, &fasthttp.Client{}, 2*time.Second)

	fmt.Printf("fasthttp health probe listening on %s\n", *addr)
	srv := &fasthttp.Server{
		Handler:            h,
		Name:               "parley-fasthttp-probe",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}
	if err := srv.ListenAndServe(*addr); err != nil {
		fmt.Printf("fasthttp server exit: %v\n", err)
	}
}
