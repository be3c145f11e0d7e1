package registry

// defaultRegistryJSON is written to disk on first start so users have a
// real file to edit. The 3B model is the default: it fits comfortably in
// 8 GB of RAM and is the best quality/footprint tradeoff of the set.
const defaultRegistryJSON = `{
  "version": "1.0",
  "templates": [
    {
      "id": "llama3",
      "name": "Llama 3 Instruct",
      "system_prefix": "<|start_header_id|>system<|end_header_id|>\n\n",
      "system_suffix": "<|eot_id|>",
      "user_prefix": "<|start_header_id|>user<|end_header_id|>\n\n",
      "user_suffix": "<|eot_id|>",
      "assistant_prefix": "<|start_header_id|>assistant<|end_header_id|>\n\n",
      "assistant_suffix": "<|eot_id|>",
      "default_system_prompt": "You are a helpful assistant."
    },
    {
      "id": "chatml",
      "name": "ChatML",
      "system_prefix": "<|im_start|>system\n",
      "system_suffix": "<|im_end|>\n",
      "user_prefix": "<|im_start|>user\n",
      "user_suffix": "<|im_end|>\n",
      "assistant_prefix": "<|im_start|>assistant\n",
      "assistant_suffix": "<|im_end|>\n",
      "default_system_prompt": "You are a helpful assistant."
    }
  ],
  "models": [
    {
      "id": "llama-3.2-1b-instruct-q4_k_m",
      "name": "Llama 3.2 1B Instruct (Q4_K_M)",
      "path": "llama-3.2-1b-instruct-q4_k_m.gguf",
      "ctx_window": 8192,
      "template_id": "llama3",
      "stop_sequences": ["<|eot_id|>", "<|end_of_text|>", "<|start_header_id|>"],
      "eos_token": "<|eot_id|>",
      "defaults": {
        "temperature": 0.6,
        "top_p": 0.9,
        "top_k": 40,
        "repeat_penalty": 1.15,
        "max_tokens": 256
      },
      "resources": {
        "min_ram_gb": 2.0,
        "est_disk_gb": 1.0,
        "gpu_layers": -1,
        "threads": 4
      },
      "default": false
    },
    {
      "id": "llama-3.2-3b-instruct-q4_k_m",
      "name": "Llama 3.2 3B Instruct (Q4_K_M)",
      "path": "llama-3.2-3b-instruct-q4_k_m.gguf",
      "ctx_window": 8192,
      "template_id": "llama3",
      "stop_sequences": ["<|eot_id|>", "<|end_of_text|>", "<|start_header_id|>"],
      "eos_token": "<|eot_id|>",
      "defaults": {
        "temperature": 0.6,
        "top_p": 0.9,
        "top_k": 40,
        "repeat_penalty": 1.15,
        "max_tokens": 256
      },
      "resources": {
        "min_ram_gb": 3.0,
        "est_disk_gb": 2.0,
        "gpu_layers": -1,
        "threads": 4
      },
      "default": true
    },
    {
      "id": "llama-3.1-8b-instruct-q4_k_m",
      "name": "Llama 3.1 8B Instruct (Q4_K_M)",
      "path": "llama-3.1-8b-instruct-q4_k_m.gguf",
      "ctx_window": 8192,
      "template_id": "llama3",
      "stop_sequences": ["<|eot_id|>", "<|end_of_text|>", "<|start_header_id|>"],
      "eos_token": "<|eot_id|>",
      "defaults": {
        "temperature": 0.6,
        "top_p": 0.9,
        "top_k": 40,
        "repeat_penalty": 1.15,
        "max_tokens": 256
      },
      "resources": {
        "min_ram_gb": 6.0,
        "est_disk_gb": 5.0,
        "gpu_layers": -1,
        "threads": 6
      },
      "default": false
    },
    {
      "id": "qwen2.5-3b-instruct-q4_k_m",
      "name": "Qwen 2.5 3B Instruct (Q4_K_M)",
      "path": "qwen2.5-3b-instruct-q4_k_m.gguf",
      "ctx_window": 32768,
      "template_id": "chatml",
      "stop_sequences": ["<|im_end|>", "<|im_start|>", "<|endoftext|>"],
      "eos_token": "<|im_end|>",
      "defaults": {
        "temperature": 0.7,
        "top_p": 0.8,
        "top_k": 20,
        "repeat_penalty": 1.05,
        "max_tokens": 256
      },
      "resources": {
        "min_ram_gb": 3.0,
        "est_disk_gb": 2.0,
        "gpu_layers": -1,
        "threads": 4
      },
      "default": false
    }
  ]
}
`
