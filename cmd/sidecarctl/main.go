// Package main provides sidecarctl, an operator CLI around the sidecar
// supervisor.
//
// Usage:
//
//	sidecarctl run
//	sidecarctl crawl --type product --platform jd --url https://item.jd.com/100012043978.html
//	sidecarctl status
//	sidecarctl proxies
//
// See --help for all available options.
package main

func main() {
	Execute()
}
