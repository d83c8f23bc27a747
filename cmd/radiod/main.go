package main

import (
	"log"
)

func main() {
	log.Println("[Main] 电话控制服务启动中...")

	runner := NewApplicationRunner()
	runner.Run()

	log.Println("[Main] 电话控制服务已停止")
}
